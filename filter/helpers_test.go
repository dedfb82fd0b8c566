package filter_test

import (
	"github.com/xraph/taskforge/id"
)

func newTestJobID() id.JobID {
	return id.NewJobID()
}
