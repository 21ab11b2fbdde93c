package core

import (
	"fmt"
	"path"

	"github.com/google/uuid"
)

// SuccessMarker is written into the output directory of a completed job.
const SuccessMarker = "_SUCCESS"

// PartName names the output of partition index.
func PartName(index int) string {
	return fmt.Sprintf("part-%05d", index)
}

// ScratchDir is where a job keeps intermediate data until it ends.
func ScratchDir(root string, jobID uuid.UUID) string {
	return path.Join(root, jobID.String())
}

// AttemptDir is the private output directory of one task attempt. Attempts
// never share a directory, so a late attempt cannot clobber a newer one.
func AttemptDir(scratch string, taskType TaskType, index, attempt int) string {
	prefix := "map"
	if taskType == TaskTypeReduce {
		prefix = "reduce"
	}
	return path.Join(scratch, fmt.Sprintf("%s-%05d", prefix, index), fmt.Sprintf("attempt-%d", attempt))
}

// IntermediatePath is the file a map attempt writes for reduce partition.
func IntermediatePath(mapOutput string, partition int) string {
	return path.Join(mapOutput, PartName(partition))
}
