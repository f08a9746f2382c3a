// Package vkernel is an embeddable, persistent vector similarity search
// engine. It indexes fixed-dimension float32 vectors under a caller-chosen
// distance metric (cosine, squared Euclidean, or negative dot product),
// attaches arbitrary JSON metadata to each vector, and answers approximate
// k-nearest-neighbor queries with optional metadata filtering.
//
// # Quick start
//
//	coll, err := vkernel.Open("./data/products", vkernel.WithDimension(128), vkernel.WithMetric(vkernel.Cosine))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer coll.Save()
//
//	if err := coll.Upsert("sku-1", vector, map[string]any{"category": "shoes"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	results, err := coll.Query(vkernel.Query{
//	    Vector: queryVector,
//	    K:      10,
//	    Filter: vkernel.Eq("category", "shoes"),
//	})
//
// # Multi-tenancy
//
// Manager owns a set of independent Collections, each isolated under its
// own subdirectory of a root:
//
//	mgr, err := vkernel.NewManager("./data")
//	mgr.LoadNamespaces()
//	coll, err := mgr.Create("tenant-42", 128, vkernel.Cosine, vkernel.DefaultGraphParams())
//
// # Concurrency
//
// Each Collection is single-writer/many-reader: Query, Stats and Save take
// a shared lock; Upsert, BatchUpsert, Delete, Optimize and Restore take an
// exclusive one. Manager's own lock protects only its name-to-Collection
// map and is never held across a Collection operation.
//
// # Scope
//
// This package is the core engine only: the command-line interface, RPC
// and REST front-ends, metric emitters, and format-conversion tooling are
// external collaborators built against this library surface, not part of
// it.
package vkernel
