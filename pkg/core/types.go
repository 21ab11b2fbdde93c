package core

// MapFunc turns one input record into zero or more intermediate pairs.
type MapFunc func(key, value string) []KeyValue

// ReduceFunc receives every value emitted for key, in arrival order, and
// produces zero or more output records.
type ReduceFunc func(key string, values []string) []KeyValue

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
