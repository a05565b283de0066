// Package nalu locates NAL units in Annex-B byte streams and classifies them
// for H.264 and H.265.
//
// [FindIndices] is codec-agnostic: both codecs share the 00 00 01 /
// 00 00 00 01 start code framing. A [Codec] knows the header width and type
// mask needed to classify the first payload byte of each unit.
package nalu
