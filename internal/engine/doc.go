// Package engine drives the pulse engine: the co-processor that replays a
// cyclic waveform program on its output pins with microsecond timing.
//
// The engine speaks a line protocol over a serial link. Each command is one
// newline-terminated ASCII line:
//
//	CLEAR                      drop the current program, outputs low
//	P <rising> <falling> <us>  append a pulse (masks as 8-digit hex)
//	REPEAT                     start replaying the appended pulses
//	STOP                       stop the program, outputs low
//	LEVEL <pin> <0|1>          drive a spare pin directly
//
// The device answers each line with "OK" or "ERR <reason>". Replies and any
// unsolicited output are fanned out to subscribers by Monitor.
package engine
