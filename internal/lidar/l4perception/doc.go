// Package l4perception owns Layer 4 (Perception) of the LiDAR data model.
//
// Responsibilities: scan-based ground removal. Points are bucketed into
// radial sectors, each sector is swept near to far, and every point is
// labelled ground or non-ground by a slope cascade.
// Key types: PointCloud, ScanGroundFilter, ScanGroundParams.
//
// Dependency rule: L4 may depend on configuration and vehicle geometry,
// but never on storage or presentation code.
// No SQL/database code is allowed in this package.
package l4perception
