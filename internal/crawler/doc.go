// Package crawler implements the follower audit engine: follower enumeration,
// batched profile classification, retry handling with credential rotation and
// tally aggregation, together with the core types shared by the scheduler,
// worker and storage subsystems.
package crawler
