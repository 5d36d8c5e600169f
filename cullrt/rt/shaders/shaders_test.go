package shaders

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/gogpu/naga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compileOrSkip compiles WGSL to SPIR-V, skipping on constructs the pure-Go
// compiler does not handle yet.
func compileOrSkip(t *testing.T, name, src string) []byte {
	t.Helper()
	spirv, err := naga.Compile(src)
	if err != nil {
		msg := err.Error()
		for _, known := range []string{"not yet implemented", "not supported", "unsupported", "lowering error", "atomic"} {
			if strings.Contains(msg, known) {
				t.Skipf("Skipping %s: naga limitation: %v", name, err)
			}
		}
		t.Fatalf("failed to compile %s: %v", name, err)
	}
	return spirv
}

func TestShadersCompile(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"hiz", HiZWGSL},
		{"cull", CullWGSL},
		{"instanced", InstancedWGSL},
		{"bounds", BoundsWGSL},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.NotEmpty(t, tc.src)
			spirv := compileOrSkip(t, tc.name, tc.src)
			require.GreaterOrEqual(t, len(spirv), 4, "SPIR-V too short")

			magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
			assert.Equal(t, uint32(0x07230203), magic, "invalid SPIR-V magic")
		})
	}
}

func TestEntryPointsPresent(t *testing.T) {
	assert.Contains(t, HiZWGSL, "fn "+HiZCopyEntry+"(")
	assert.Contains(t, HiZWGSL, "fn "+HiZDownsampleEntry+"(")
	assert.Contains(t, CullWGSL, "fn "+CullEntry+"(")
	for _, src := range []string{InstancedWGSL, BoundsWGSL} {
		assert.Contains(t, src, "fn "+VertexEntry+"(")
		assert.Contains(t, src, "fn "+FragmentEntry+"(")
	}
}

func TestCullKernelMatchesHostConstants(t *testing.T) {
	assert.Contains(t, CullWGSL, fmt.Sprintf("const WORKGROUP_SIZE: u32 = %du;", core.CullWorkgroupSize))
	assert.Contains(t, CullWGSL, fmt.Sprintf("const FLAG_OCCLUSION: u32 = %du;", core.CullFlagOcclusion))
	assert.Contains(t, CullWGSL, fmt.Sprintf("const FLAG_SHOW_BOUNDS: u32 = %du;", core.CullFlagShowBounds))
	assert.Contains(t, CullWGSL, fmt.Sprintf("const FLAG_BOUNDS_ALL: u32 = %du;", core.CullFlagBoundsAll))
	assert.Contains(t, CullWGSL, "const CLIP_EPSILON: f32 = 1e-5;")
}

func TestHiZWritesMipViews(t *testing.T) {
	assert.Contains(t, HiZWGSL, "var src_depth: texture_depth_2d;")
	assert.Contains(t, HiZWGSL, "var src_level: texture_2d<f32>;")
	assert.Contains(t, HiZWGSL, "var dst_level: texture_storage_2d<r32float, write>;")
	assert.Contains(t, HiZWGSL, fmt.Sprintf("@workgroup_size(%d, %d, 1)", HiZWorkgroup, HiZWorkgroup))
	assert.NotContains(t, HiZWGSL, "scratch")
}
