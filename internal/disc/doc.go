// Package disc talks to optical drives through their external tooling.
//
// It discovers drives from lsscsi, detects media with blkid, reads volume
// geometry from isoinfo, and opens or closes trays with eject. Every command
// goes through an injectable Executor so parsers and retry policy can be
// exercised without hardware. Output parsers are strict about layout and
// classify failures as launch, encoding, or parse errors.
package disc
