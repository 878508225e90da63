package compute_coordinator

// routeTable is the single source of truth for where a task kind executes.
// A new task kind must be added here before the coordinator will accept it.
var routeTable = map[TaskKind]PoolKind{
	TK_RenderLayout:   PK_General,
	TK_DetectLanguage: PK_General,
	TK_GenerateQuery:  PK_General,
	TK_Summarize:      PK_General,
	TK_IndexEntities:  PK_General,
	TK_SplitChunks:    PK_Model,
	TK_EmbedChunk:     PK_Model,
	TK_EmbedQuery:     PK_Model,
	TK_Rerank:         PK_Model,
	TK_StreamIngest:   PK_Model,
}

func route(kind TaskKind) PoolKind {
	return routeTable[kind]
}

// streaming kinds accumulate per-document state on their worker and are the
// only kinds that create pins
func isStreaming(kind TaskKind) bool {
	return kind == TK_StreamIngest
}
