package api

const (
	// LabelCardID associates an agent pod with the card that launched it.
	LabelCardID = "card-agents.io/card-id"
	// LabelJobName is set by the batch controller on pods it creates.
	LabelJobName = "job-name"
	// LabelBatchJobName is the namespaced form of LabelJobName used by newer clusters.
	LabelBatchJobName = "batch.kubernetes.io/job-name"

	// AnnotationJobName carries the human-friendly job name shown in the UI.
	AnnotationJobName = "jobName"

	EnvAgent      = "AGENT"
	EnvModel      = "MODEL"
	EnvPrompt     = "PROMPT"
	EnvAgentRules = "AGENT_RULES"

	// OwnerKindJob is the owner reference kind that StopPod deletes first.
	OwnerKindJob = "Job"
)

// JobNameFromLabels returns the batch job name recorded on a pod's labels.
func JobNameFromLabels(labels map[string]string) string {
	if labels == nil {
		return ""
	}
	if name := labels[LabelJobName]; name != "" {
		return name
	}
	return labels[LabelBatchJobName]
}
