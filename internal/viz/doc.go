// Package viz draws trailer scenarios in the terminal.
//
//   - [Canvas]: braille pixel canvas (2x4 dots per cell)
//   - [Scene]: path, obstacles, vehicle and predicted horizon on a canvas
//   - [Summary] and [Plots]: styled run reports with asciigraph charts
//   - [Live]: Bubble Tea model that ticks an executor and redraws
//
// # Key Bindings
//
//	Space - Pause/Resume
//	N     - Single tick while paused
//	R     - Reset to the start pose
//	+/-   - Zoom
//	Q     - Quit
package viz
