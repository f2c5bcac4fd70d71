// Package e2e drives a whole collection through its public surface: a
// generated source tree on disk, one indexing pass, and a bank of queries
// with known right answers.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
)

// CorpusFile is one generated source file.
type CorpusFile struct {
	Path string
	Body string
}

// QueryCase pairs one query with the path that must appear in its results.
type QueryCase struct {
	Query       string
	WantPath    string
	Description string
}

// Corpus is a generated source tree plus the queries that pin its files.
// Exact cases replay a file body verbatim, which the deterministic mock
// embedder maps to that file's own vector. Token cases use an identifier
// that occurs in exactly one file, so keyword search has a single right
// answer.
type Corpus struct {
	Files  []CorpusFile
	Exact  []QueryCase
	Tokens []QueryCase
}

// BuildCorpus generates one file per topic, spread over a handful of
// directories. Every body carries a signature identifier unique to it.
func BuildCorpus() *Corpus {
	topics := []struct {
		dir, stem, token, doc string
	}{
		{"auth", "grants", "mint_access_grant", "Issue a signed access grant for one subject."},
		{"auth", "sessions", "revoke_idle_sessions", "Drop sessions past their idle deadline."},
		{"auth", "keys", "rotate_signing_keys", "Rotate the signing keypair and republish it."},
		{"auth", "passwords", "stretch_password_hash", "Stretch a password hash with a per-user salt."},
		{"auth", "scopes", "narrow_token_scopes", "Intersect requested scopes with the client allowlist."},
		{"auth", "audit", "record_login_attempt", "Append a login attempt to the audit trail."},
		{"cache", "evict", "evict_cold_entries", "Evict entries untouched for a full window."},
		{"cache", "warm", "prewarm_hot_paths", "Load the hottest keys before taking traffic."},
		{"cache", "stampede", "collapse_miss_stampede", "Collapse concurrent misses into one fill."},
		{"cache", "ttl", "jitter_expiry_ttl", "Spread expirations with per-key jitter."},
		{"cache", "shards", "rebalance_cache_shards", "Move slots between shards after a topology change."},
		{"cache", "stats", "sample_hit_ratio", "Sample the hit ratio over a sliding window."},
		{"net", "retry", "retry_with_backoff", "Retry a call with capped exponential backoff."},
		{"net", "breaker", "trip_circuit_breaker", "Open the breaker after consecutive failures."},
		{"net", "pool", "lease_idle_connection", "Lease an idle connection or dial a new one."},
		{"net", "dns", "refresh_dns_records", "Re-resolve endpoints when records expire."},
		{"net", "proxy", "tunnel_through_proxy", "Tunnel a request through the egress proxy."},
		{"net", "limits", "throttle_request_rate", "Shed requests above the per-client rate."},
		{"store", "wal", "replay_write_ahead_log", "Replay the write-ahead log after a crash."},
		{"store", "compact", "compact_segment_files", "Fold small segments into one generation."},
		{"store", "snapshot", "emit_consistent_snapshot", "Write a snapshot at a stable sequence number."},
		{"store", "migrate", "apply_schema_migration", "Apply one schema migration inside a transaction."},
		{"store", "vacuum", "reclaim_dead_rows", "Reclaim space held by dead row versions."},
		{"store", "backup", "ship_incremental_backup", "Ship only blocks changed since the last backup."},
		{"sched", "lease", "acquire_leader_lease", "Acquire the leader lease with a fencing token."},
		{"sched", "queue", "drain_delayed_queue", "Move due tasks from the delay queue to workers."},
		{"sched", "cron", "align_cron_window", "Align cron fires to the configured window."},
		{"sched", "placement", "spread_replica_placement", "Place replicas across failure domains."},
		{"sched", "deadline", "enforce_task_deadline", "Cancel tasks that outlive their deadline."},
		{"sched", "quota", "share_fair_quota", "Split worker quota across tenants fairly."},
		{"parse", "lexer", "scan_source_tokens", "Scan source text into a token stream."},
		{"parse", "ast", "fold_constant_nodes", "Fold constant expressions in the tree."},
		{"parse", "imports", "resolve_import_graph", "Resolve the import graph without cycles."},
		{"parse", "pretty", "render_pretty_diff", "Render a structural diff for review."},
		{"parse", "symbols", "collect_exported_symbols", "Collect exported symbols for the index."},
		{"parse", "recover", "recover_parse_state", "Resynchronize the parser after a bad token."},
		{"metrics", "histogram", "merge_latency_histograms", "Merge per-shard latency histograms."},
		{"metrics", "export", "flush_metric_batch", "Flush buffered samples to the collector."},
		{"metrics", "slo", "burn_error_budget", "Track error budget burn against the target."},
		{"metrics", "labels", "cap_label_cardinality", "Drop labels past the cardinality cap."},
		{"metrics", "gauge", "decay_load_gauge", "Decay the load gauge between samples."},
		{"metrics", "tracing", "stitch_trace_spans", "Stitch child spans under one trace."},
		{"deploy", "canary", "promote_canary_release", "Promote the canary after its bake time."},
		{"deploy", "rollback", "pin_last_good_release", "Pin the fleet to the last good release."},
		{"deploy", "secrets", "inject_sealed_secrets", "Unseal and inject secrets at start."},
		{"deploy", "drain", "drain_node_gracefully", "Drain a node without dropping requests."},
		{"deploy", "render", "diff_rendered_config", "Diff rendered config against the live set."},
		{"deploy", "gates", "gate_on_health_checks", "Hold the rollout until health checks pass."},
	}

	c := &Corpus{}
	for _, tp := range topics {
		path := tp.dir + "/" + tp.stem + ".py"
		body := fmt.Sprintf("def %s(ctx, payload):\n    \"\"\"%s\"\"\"\n    result = ctx.apply(%q, payload)\n    return result\n",
			tp.token, tp.doc, tp.stem)
		c.Files = append(c.Files, CorpusFile{Path: path, Body: body})
		c.Exact = append(c.Exact, QueryCase{
			Query:       body,
			WantPath:    path,
			Description: "body of " + path,
		})
		c.Tokens = append(c.Tokens, QueryCase{
			Query:       tp.token,
			WantPath:    path,
			Description: tp.token,
		})
	}
	return c
}

// WriteTree writes every corpus file under root.
func (c *Corpus) WriteTree(root string) error {
	for _, f := range c.Files {
		abs := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(abs, []byte(f.Body), 0644); err != nil {
			return err
		}
	}
	return nil
}
