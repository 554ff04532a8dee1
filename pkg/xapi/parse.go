package xapi

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// xe prints timestamps like "20240209T10:19:02Z".
const xeTimestampLayout = "20060102T15:04:05Z07:00"

func looksLikeUUID(s string) bool {
	return len(strings.Split(s, "-")) == 5
}

// parseUUID decodes a single uuid from command output, e.g. the result
// of vm-snapshot.
func parseUUID(output string) (string, error) {
	uuid := strings.TrimSpace(output)

	if !looksLikeUUID(uuid) {
		return "", errors.Errorf("expected a uuid, got %q", uuid)
	}

	return uuid, nil
}

// parseUUIDList decodes the comma separated output of a --minimal
// listing. An empty listing decodes as an empty list.
func parseUUIDList(output string) ([]string, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, nil
	}

	var uuids []string

	for _, field := range strings.Split(output, ",") {
		uuid := strings.TrimSpace(field)

		if !looksLikeUUID(uuid) {
			return nil, errors.Errorf("expected a uuid list, got %q", output)
		}

		uuids = append(uuids, uuid)
	}

	return uuids, nil
}

// parseVMParams decodes the output of vm-param-list, which prints one
// "key ( RO): value" line per parameter.
func parseVMParams(output string) (VM, error) {
	var vm VM

	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		keyFields := strings.Fields(parts[0])
		if len(keyFields) == 0 {
			continue
		}

		key := keyFields[0]
		value := strings.TrimSpace(parts[1])

		switch key {
		case "uuid":
			vm.UUID = value

		case "name-label":
			vm.NameLabel = value

		case "name-description":
			vm.NameDescription = value

		case "is-a-template":
			vm.IsATemplate = value == "true"

		case "is-a-snapshot":
			vm.IsASnapshot = value == "true"

		case "snapshot-time":
			timestamp, err := time.Parse(xeTimestampLayout, value)
			if err != nil {
				return VM{}, errors.Wrapf(err, "bad snapshot-time %q", value)
			}

			vm.SnapshotTime = timestamp
		}
	}

	if vm.UUID == "" {
		return VM{}, errors.New("vm-param-list output carries no uuid")
	}

	return vm, nil
}
