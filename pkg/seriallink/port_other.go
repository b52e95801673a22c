//go:build !darwin && !linux

package seriallink

const defaultPortName = "COM3"
