package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobNameFromLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels map[string]string
		want   string
	}{
		{"nil labels", nil, ""},
		{"legacy label", map[string]string{LabelJobName: "job-a"}, "job-a"},
		{"batch label", map[string]string{LabelBatchJobName: "job-b"}, "job-b"},
		{"legacy wins", map[string]string{LabelJobName: "job-a", LabelBatchJobName: "job-b"}, "job-a"},
		{"unrelated labels", map[string]string{LabelCardID: "card-1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JobNameFromLabels(tt.labels))
		})
	}
}
