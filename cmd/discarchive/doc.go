// Command discarchive is the operator CLI for the disc archiving daemon.
//
// It starts and stops the background daemon, shows drive and catalog status,
// answers the per-drive naming prompts, drives the trays directly when the
// daemon is down, and inspects committed images.
package main
