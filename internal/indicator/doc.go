// Package indicator drives the single status LED.
//
// The LED is diagnostic, not safety-critical. Hardware faults are logged
// and counted inside the Indicator and never reach the caller, so losing
// the LED can never stall connectivity handling.
//
// # Architecture
//
//	lifecycle.Controller → Indicator (Driver) → worker → Device
//	                                                     ├─ SerialDevice (LED controller on a UART)
//	                                                     ├─ MQTTDevice   (retained mirror topic)
//	                                                     └─ LogDevice    (hosts without an LED)
//
// Indicator records the commanded value synchronously and applies it on a
// worker goroutine. Rapid changes coalesce: the device always converges on
// the latest command, intermediate colors may be skipped.
//
// # Usage
//
//	ind := indicator.New(indicator.NewLogDevice(log))
//	ind.Start(ctx)
//	defer ind.Close()
//
//	ind.SetPower(true)
//	ind.SetColor(indicator.Blue)
package indicator
