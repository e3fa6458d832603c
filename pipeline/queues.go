package pipeline

// StreamName is the durable work-queue stream carrying every pipeline queue
const StreamName = "OSDS"

// subjectPrefix namespaces all pipeline subjects on the stream
const subjectPrefix = "osds."

// Queue names. Each is one subject on the stream; a stage binds durable
// consumers to the queues it reads and publishes to the queues it writes.
const (
	QueueScanSpecs       = "scan_specs"
	QueueConversions     = "conversions"
	QueueRepresentations = "representations"
	QueueMatches         = "matches"
	QueueHandles         = "handles"
	QueueMetadata        = "metadata"
	QueueProblems        = "problems"
	QueueResults         = "results"
)

// AllQueues lists every pipeline queue, in flow order
var AllQueues = []string{
	QueueScanSpecs,
	QueueConversions,
	QueueRepresentations,
	QueueMatches,
	QueueHandles,
	QueueMetadata,
	QueueProblems,
	QueueResults,
}

// Subject returns the stream subject for a queue name
func Subject(queue string) string {
	return subjectPrefix + queue
}

// QueueOf returns the queue name for a stream subject
func QueueOf(subject string) string {
	if len(subject) > len(subjectPrefix) && subject[:len(subjectPrefix)] == subjectPrefix {
		return subject[len(subjectPrefix):]
	}
	return subject
}

// AllSubjects returns the subjects the stream must carry
func AllSubjects() []string {
	subjects := make([]string, len(AllQueues))
	for i, queue := range AllQueues {
		subjects[i] = Subject(queue)
	}
	return subjects
}
