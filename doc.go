// Package langsmith is a Go client for the LangSmith tracing API. It
// records LLM and agent pipeline executions as run trees and streams them
// to the ingest API in the background, batching, compressing and retrying
// so instrumented code never waits on the tracer.
//
// Most programs create one Client at startup, build a RunTree per request
// and Close the client on shutdown:
//
//	client, err := langsmith.NewClient()
//	...
//	root, err := langsmith.NewRunTree(client,
//	    langsmith.WithRunName("checkout-pipeline"),
//	    langsmith.WithRunType(langsmith.RunTypeChain),
//	)
//	root.Post(ctx)
//	child, _ := root.CreateChild(langsmith.WithRunName("llm-call"),
//	    langsmith.WithRunType(langsmith.RunTypeLLM))
//	child.Post(ctx)
//	child.End(outputs, nil)
//	child.Patch(ctx)
//	root.End(nil, nil)
//	root.Patch(ctx)
//	...
//	client.Close(ctx)
//
// Configuration follows LANGSMITH_* environment variables; see Config.
package langsmith
