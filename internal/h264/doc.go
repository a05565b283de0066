// Package h264 decodes H.264 sequence parameter sets.
package h264
