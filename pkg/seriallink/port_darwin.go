//go:build darwin

package seriallink

// defaultPortName is the CDC device the ESP32-S3 enumerates as on macOS.
const defaultPortName = "/dev/cu.usbmodem2101"
