// Package notiflog reads the change notifications a subscriber process
// writes and compares them against expectations.
//
// A producer writes one record per line, fields separated by '|':
//
//	DELETED|/ietf-interfaces:interfaces/interface[name='eth0']
//
// The first field is the change kind, the second the affected path, and
// any further fields are carried as Extra but never compared. Trailing
// CR/LF is stripped and blank lines are skipped.
//
// A Channel is where the producer writes. FileChannel hands the producer a
// uniquely named file path, which is what unmodified subscriber binaries
// expect. PipeChannel hands it /dev/fd/3 backed by a pipe the
// orchestrator drains, so nothing touches the filesystem. Both bound how
// much they will buffer.
package notiflog
