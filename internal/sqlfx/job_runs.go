package sqlfx

import (
	"github.com/jmoiron/sqlx"

	"github.com/xenbak/xenbakd/pkg/history"
	"github.com/xenbak/xenbakd/pkg/http/handler"
	"github.com/xenbak/xenbakd/pkg/scheduler"
)

func JobRunsRepository(db *sqlx.DB) (
	*history.JobRunRepository,
	scheduler.RunRecorder,
	handler.JobRunRepository,
) {
	repo := history.NewJobRunRepository(db)

	return repo, repo, repo
}
