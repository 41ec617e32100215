// Package waveform turns per-channel phase fractions into a cyclic pulse
// program for a hardware waveform engine.
//
// Channel 0 is the reference: 50% duty, rising at t=0. Every other
// channel is a 50% square wave of the same period shifted by its phase.
// The engine represents one period as an ordered list of distinct time
// points, so transitions that share a timestamp are merged into a single
// pulse carrying both masks.
package waveform
