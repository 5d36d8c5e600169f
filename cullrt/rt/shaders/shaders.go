package shaders

import (
	_ "embed"
)

//go:embed hiz.wgsl
var HiZWGSL string

//go:embed cull.wgsl
var CullWGSL string

//go:embed instanced.wgsl
var InstancedWGSL string

//go:embed bounds.wgsl
var BoundsWGSL string

// Entry points.
const (
	HiZCopyEntry       = "copy_depth"
	HiZDownsampleEntry = "downsample_max"
	CullEntry          = "cull"
	VertexEntry        = "vs_main"
	FragmentEntry      = "fs_main"
)

// HiZWorkgroup is the 2D tile edge of both pyramid kernels.
const HiZWorkgroup = 8
