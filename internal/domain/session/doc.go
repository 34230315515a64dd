// Package session provides the learner's host context.
//
// A Session owns everything one learner sees:
//   - the Observation Log every objective is graded against
//   - the host page's own interceptor registry, for template pages
//   - the tag lifecycle manager and the host document it injects into
//   - the Renderer and its single live frame
//   - the bridge Channel whose listener applies frame messages to the log
//
// Reload is the equivalent of refreshing the page: the log, host document
// and frame are rebuilt and the tag manager mounts again from persisted
// state. Persisted state lives in a storage namespace named after the
// session id, so a later session can resume it.
//
// Example Usage:
//
//	manager := session.NewManager(cfg, session.Deps{Catalog: catalog, Store: kv})
//	s, err := manager.Create(ctx, session.CreateOptions{ChallengeID: "saas-platform"})
//	_, err = s.SubmitTag(ctx, "gtm-abc123")
//	err = s.Click(ctx, "#subscribe-btn")
//	board, err := s.Board()
package session
