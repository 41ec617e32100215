// Package pose fuses the detected fiducial markers of one frame into a
// single planar similarity transform: position, rotation and uniform scale
// of the robot's marker ring in image space.
//
// The transform p' = [[a, -b], [b, a]]·p + (x, y) is linear in
// (x, y, a, b), so the fit is a plain linear least-squares solve. There is
// no outlier rejection: one badly detected marker moves the fused pose,
// and the residual is reported for diagnostics only.
package pose
