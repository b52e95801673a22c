//go:build linux

package seriallink

const defaultPortName = "/dev/ttyACM0"
