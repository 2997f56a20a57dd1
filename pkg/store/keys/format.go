package keys

const (
	// notation dictionary for key formats:
	// t = thread
	// m = message
	// u = user (participant projection index)
	// segments are separated by ":"; ids never contain ":"

	// authoritative records
	ThreadKey  = "t:%s"         // t:<thread_id>
	MessageKey = "t:%s:m:%s:%s" // t:<thread_id>:m:<ts>:<seq>

	// derived records
	ProjectionKey = "u:%s:t:%s:%s" // u:<user_id>:t:<updated_at>:<thread_id>

	// prefixes
	ThreadMessagesPrefix = "t:%s:m:" // t:<thread_id>:m:
	UserProjectionPrefix = "u:%s:t:" // u:<user_id>:t:
	AllThreadsPrefix     = "t:"
	AllProjectionsPrefix = "u:"

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth  = 20 // e.g. %020d
	SeqPadWidth = 20 // e.g. %020d, wide enough for any uint64

	// system keys
	SystemVersionKey = "system:version"
	SchemaVersion    = "1"
)
