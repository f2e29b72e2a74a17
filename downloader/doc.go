// Package downloader fetches model-weight files from a remote repository and
// reports byte-level progress for transfers that expose no progress callback.
//
// The package provides:
//   - Orchestrator: sequences the files of one download, aggregates totals and persists the version token
//   - FileTransferStep: per-file skip/retry/verify state machine around the blocking transfer primitive
//   - TransferProgressTracker: reconstructs written bytes by polling staging locations on disk
//   - SpeedEstimator and ETA: sliding-window throughput
//   - DownloadError: structured errors separating recoverable, remote, checksum and validation failures
//
// The transfer primitive writes to a private staging file before renaming it
// to the destination, so progress comes from CandidateLocator strategies that
// enumerate every file the primitive may currently be writing.
package downloader
