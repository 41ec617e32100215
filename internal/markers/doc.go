// Package markers owns the reference geometry of the fiducial markers
// mounted on the robot and the per-frame detection types produced by the
// external marker detector.
//
// Key types: Point, Quad, Detection, Layout.
//
// Dependency rule: markers is a leaf. It must not import pose, pipeline or
// any I/O package.
package markers
