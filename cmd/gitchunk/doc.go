// Package main implements gitchunk, a tool that uploads a large working tree
// to a git remote in size-bounded pieces.
//
// Many git hosts reject a push whose pack exceeds a payload limit, and some
// reject single files above a size limit. gitchunk walks the working tree,
// skips files over --max-file-size, groups the rest into batches of at most
// --max-batch-size, and for each batch stages, commits and pushes before
// moving on. Pushes are separated by a pause so the remote is not flooded.
//
// # Basic Usage
//
//	gitchunk --dry-run                          # Print the batch plan only
//	gitchunk --remote-url git@host:big.git      # Upload the current directory
//	gitchunk -r /data --max-batch-size 100MB    # Smaller batches for a stricter host
//	gitchunk --backoff exponential --pause 1m   # Pause longer after each push
//
// # Configuration
//
// Settings come from defaults, an optional YAML file (--config or
// GITCHUNK_CONFIG), GITCHUNK_* environment variables and flags, each layer
// overriding the one before it. Run gitchunk --help for the full list.
//
// # Failure and Restart
//
// A run stops at the first batch that fails to commit or push and exits with
// status 1, printing the batch it halted at. Commits that were created but not
// pushed stay on the branch and are pushed first by the next run. Files staged
// by an interrupted run are unstaged (or, interactively, after asking) before
// planning.
//
// SIGINT and SIGTERM stop the run at the next step boundary. A pause in
// progress ends immediately.
package main
