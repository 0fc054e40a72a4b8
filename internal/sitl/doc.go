// Package sitl supervises ArduPilot software-in-the-loop simulators.
//
// Every process the supervisor starts carries a tag in its environment
// (TagEnv). The tag is inherited by the whole simulator tree, so Teardown
// finds the terminal wrapper, sim_vehicle.py, MAVProxy and the ArduCopter
// binary by scanning the process table for it, and never touches
// processes it did not start.
package sitl
