// Package action implements the operations of the vector service on top of a vector.Store.
//
// # Overview
//
//	┌─────────────────────────────────────────────────────────────┐
//	│              api/http   api/mcp   api/consumer              │
//	└─────────────────────────────────────────────────────────────┘
//	                           │
//	                           ▼
//	┌─────────────────────────────────────────────────────────────┐
//	│                         Vectors                             │
//	│  id assignment, text embedding, async mutations             │
//	└─────────────────────────────────────────────────────────────┘
//	              │                 │                 │
//	              ▼                 ▼                 ▼
//	        vector.Store      genkit embedder     mq.MessageQueue
//
// # Writes
//
// Insert, Update and Delete write to the store directly. InsertAsync and DeleteAsync
// publish one domain.Mutation per record instead, keyed by record id so that mutations of
// the same record are consumed in order. The consumer decodes each message with
// DecodeMutation and hands it to Apply.
//
// # Search
//
// A search request carries either a vector or a query text. Query text is embedded with
// the configured embedder; without one, text-only requests are rejected.
package action
