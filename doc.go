// Package contextmem provides a temporal knowledge graph memory for
// conversational AI systems.
//
// Each conversation turn is run through a multi-stage extraction pipeline
// (template patterns, a completion collaborator, graph corroboration, and
// consensus merging), the resulting entities, relations, and facts are
// recorded bi-temporally in an episodic graph, and prior knowledge relevant
// to the turn is retrieved as a ranked memory context.
//
// # Basic Usage
//
//	cfg := config.Default()
//	cfg.Store.Path = ":memory:"
//
//	cm, err := contextmem.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Close()
//
//	result, err := cm.ProcessConversationTurn(ctx, "session-1", "user-1",
//		"Dr. Anna Schmidt from SAP GmbH is planning the PostgreSQL migration.")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for _, e := range result.Extraction.Entities {
//		fmt.Printf("%s (%s) %.2f\n", e.Name, e.Type, e.Confidence)
//	}
//
// # Retrieval
//
// Memory can also be queried directly, with an explicit ranking mode, scope,
// and optional time horizon in hours (0 uses the configured default):
//
//	mc, err := cm.GetContextualMemory(ctx, "migration status", "session-1", "user-1",
//		types.RelevanceFirst, types.ScopeSession, 0)
//
// Without an OPENAI_API_KEY the collaborator stages degrade gracefully and
// extraction falls back to template patterns; every turn still yields a
// result.
package contextmem
