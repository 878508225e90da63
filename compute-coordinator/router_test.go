package compute_coordinator

import "testing"

func TestRouteTableCoversEveryKind(t *testing.T) {
	kinds := []TaskKind{
		TK_RenderLayout, TK_DetectLanguage, TK_GenerateQuery, TK_Summarize,
		TK_IndexEntities, TK_SplitChunks, TK_EmbedChunk, TK_EmbedQuery,
		TK_Rerank, TK_StreamIngest,
	}
	for _, kind := range kinds {
		if _, ok := routeTable[kind]; !ok {
			t.Errorf("kind %s has no route", taskKindName(kind))
		}
		if taskKindName(kind) == "unknown" {
			t.Errorf("kind %d has no name", kind)
		}
	}
}

func TestRouting(t *testing.T) {
	general := []TaskKind{TK_RenderLayout, TK_DetectLanguage, TK_GenerateQuery, TK_Summarize, TK_IndexEntities}
	for _, kind := range general {
		if route(kind) != PK_General {
			t.Errorf("%s should route to the general pool", taskKindName(kind))
		}
	}
	model := []TaskKind{TK_SplitChunks, TK_EmbedChunk, TK_EmbedQuery, TK_Rerank, TK_StreamIngest}
	for _, kind := range model {
		if route(kind) != PK_Model {
			t.Errorf("%s should route to the model pool", taskKindName(kind))
		}
	}
	if isStreaming(TK_EmbedChunk) || !isStreaming(TK_StreamIngest) {
		t.Errorf("streaming classification is wrong")
	}
}
