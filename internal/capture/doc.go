// Package capture implements the frame pipeline run by the capture event:
// acquire a frame, classify it by light level, keep day frames and drop night
// ones, and fire consolidation once enough frames are buffered.
//
// The pipeline owns its counters. Devices, storage and consolidation are
// injected as small interfaces so tests can drive every state.
package capture
