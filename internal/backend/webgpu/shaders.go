package webgpu

import "strings"

// WGSL compute shaders for the lowered operators.
//
// Every shader binds the four regions of a graph at bindings 0-3 and its uniform
// parameters at binding 4. Operands are addressed as (region, element offset)
// pairs carried in the parameters, so one bind group layout serves every node and
// no buffer is bound twice.

// workgroupSize is the default number of threads per workgroup.
const workgroupSize = 256

// maxWorkgroupsPerDimension is the WebGPU default limit.
const maxWorkgroupsPerDimension = 65535

const regionPrelude = `
@group(0) @binding(0) var<storage, read_write> pinned: array<f32>;
@group(0) @binding(1) var<storage, read_write> reusable: array<f32>;
@group(0) @binding(2) var<storage, read_write> constants: array<f32>;
@group(0) @binding(3) var<storage, read_write> externs: array<f32>;

fn load(region: u32, i: u32) -> f32 {
    switch region {
        case 0u: { return pinned[i]; }
        case 1u: { return reusable[i]; }
        case 2u: { return constants[i]; }
        default: { return externs[i]; }
    }
}

fn store(region: u32, i: u32, v: f32) {
    switch region {
        case 0u: { pinned[i] = v; }
        case 1u: { reusable[i] = v; }
        case 2u: { constants[i] = v; }
        default: { externs[i] = v; }
    }
}
`

// binaryShader applies EXPR(a, b) element-wise with broadcasting up to rank 8.
const binaryShader = `
struct Params {
    size: u32,
    rank: u32,
    a_region: u32,
    a_offset: u32,
    b_region: u32,
    b_offset: u32,
    out_region: u32,
    out_offset: u32,
    out_strides: array<vec4<u32>, 2>,
    a_strides: array<vec4<u32>, 2>,
    b_strides: array<vec4<u32>, 2>,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>,
        @builtin(num_workgroups) groups: vec3<u32>) {
    let idx = global_id.y * groups.x * 256u + global_id.x;
    if (idx >= params.size) {
        return;
    }

    var rem = idx;
    var ai = 0u;
    var bi = 0u;
    for (var d: u32 = 0u; d < params.rank; d = d + 1u) {
        let os = params.out_strides[d / 4u][d % 4u];
        let c = rem / os;
        rem = rem % os;
        ai = ai + c * params.a_strides[d / 4u][d % 4u];
        bi = bi + c * params.b_strides[d / 4u][d % 4u];
    }

    let a = load(params.a_region, params.a_offset + ai);
    let b = load(params.b_region, params.b_offset + bi);
    store(params.out_region, params.out_offset + idx, EXPR);
}
`

// unaryShader applies EXPR(x) element-wise.
const unaryShader = `
struct Params {
    size: u32,
    in_region: u32,
    in_offset: u32,
    out_region: u32,
    out_offset: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>,
        @builtin(num_workgroups) groups: vec3<u32>) {
    let idx = global_id.y * groups.x * 256u + global_id.x;
    if (idx >= params.size) {
        return;
    }
    let x = load(params.in_region, params.in_offset + idx);
    store(params.out_region, params.out_offset + idx, EXPR);
}
`

// matmulShader performs batched matrix multiplication: C[z] = A[z] @ B[z].
// A batch stride of zero broadcasts the operand.
const matmulShader = `
struct Params {
    m: u32,
    k: u32,
    n: u32,
    batch: u32,
    a_region: u32,
    a_offset: u32,
    a_batch_stride: u32,
    b_region: u32,
    b_offset: u32,
    b_batch_stride: u32,
    out_region: u32,
    out_offset: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;
    let z = global_id.z;
    if (row >= params.m || col >= params.n || z >= params.batch) {
        return;
    }

    let a0 = params.a_offset + z * params.a_batch_stride + row * params.k;
    let b0 = params.b_offset + z * params.b_batch_stride + col;
    var sum: f32 = 0.0;
    for (var i: u32 = 0u; i < params.k; i = i + 1u) {
        sum = sum + load(params.a_region, a0 + i) * load(params.b_region, b0 + i * params.n);
    }
    store(params.out_region, params.out_offset + (z * params.m + row) * params.n + col, sum);
}
`

// gemmShader computes Y = alpha * A' @ B' + beta * C with optional transposes.
// C is addressed through broadcast strides.
const gemmShader = `
struct Params {
    m: u32,
    k: u32,
    n: u32,
    trans_a: u32,
    trans_b: u32,
    has_c: u32,
    c_row_stride: u32,
    c_col_stride: u32,
    a_region: u32,
    a_offset: u32,
    b_region: u32,
    b_offset: u32,
    c_region: u32,
    c_offset: u32,
    out_region: u32,
    out_offset: u32,
    alpha: f32,
    beta: f32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;
    if (row >= params.m || col >= params.n) {
        return;
    }

    var sum: f32 = 0.0;
    for (var i: u32 = 0u; i < params.k; i = i + 1u) {
        let ai = select(row * params.k + i, i * params.m + row, params.trans_a == 1u);
        let bi = select(i * params.n + col, col * params.k + i, params.trans_b == 1u);
        sum = sum + load(params.a_region, params.a_offset + ai) * load(params.b_region, params.b_offset + bi);
    }

    var v = params.alpha * sum;
    if (params.has_c == 1u) {
        let ci = row * params.c_row_stride + col * params.c_col_stride;
        v = v + params.beta * load(params.c_region, params.c_offset + ci);
    }
    store(params.out_region, params.out_offset + row * params.n + col, v);
}
`

// softmaxShader applies softmax along one axis. Each thread owns one row: the
// dim_size elements that are inner apart.
const softmaxShader = `
struct Params {
    rows: u32,
    dim_size: u32,
    inner: u32,
    in_region: u32,
    in_offset: u32,
    out_region: u32,
    out_offset: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.x;
    if (row >= params.rows) {
        return;
    }
    let base = (row / params.inner) * params.dim_size * params.inner + row % params.inner;

    // Find max for numerical stability
    var max_val: f32 = load(params.in_region, params.in_offset + base);
    for (var i: u32 = 1u; i < params.dim_size; i = i + 1u) {
        max_val = max(max_val, load(params.in_region, params.in_offset + base + i * params.inner));
    }

    var sum: f32 = 0.0;
    for (var i: u32 = 0u; i < params.dim_size; i = i + 1u) {
        let idx = base + i * params.inner;
        let exp_val = exp(load(params.in_region, params.in_offset + idx) - max_val);
        store(params.out_region, params.out_offset + idx, exp_val);
        sum = sum + exp_val;
    }

    for (var i: u32 = 0u; i < params.dim_size; i = i + 1u) {
        let idx = base + i * params.inner;
        store(params.out_region, params.out_offset + idx, load(params.out_region, params.out_offset + idx) / sum);
    }
}
`

// copyShader moves 32-bit words unchanged. Regions are viewed as u32 so that any
// bit pattern survives.
const copyShader = `
struct Params {
    size: u32,
    in_region: u32,
    in_offset: u32,
    out_region: u32,
    out_offset: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>,
        @builtin(num_workgroups) groups: vec3<u32>) {
    let idx = global_id.y * groups.x * 256u + global_id.x;
    if (idx >= params.size) {
        return;
    }
    store(params.out_region, params.out_offset + idx, load(params.in_region, params.in_offset + idx));
}
`

// Element-wise expressions by operator type.
var (
	binaryExprs = map[string]string{
		"Add": "a + b",
		"Sub": "a - b",
		"Mul": "a * b",
		"Div": "a / b",
	}
	unaryExprs = map[string]string{
		"Relu":    "max(x, 0.0)",
		"Sigmoid": "1.0 / (1.0 + exp(-x))",
		"Tanh":    "tanh(x)",
	}
)

// shaderSource returns the complete WGSL of a shader key.
func shaderSource(key string) (string, bool) {
	if expr, ok := binaryExprs[key]; ok {
		return regionPrelude + strings.Replace(binaryShader, "EXPR", expr, 1), true
	}
	if expr, ok := unaryExprs[key]; ok {
		return regionPrelude + strings.Replace(unaryShader, "EXPR", expr, 1), true
	}
	switch key {
	case "MatMul":
		return regionPrelude + matmulShader, true
	case "Gemm":
		return regionPrelude + gemmShader, true
	case "Softmax":
		return regionPrelude + softmaxShader, true
	case "copy":
		return strings.ReplaceAll(regionPrelude, "f32", "u32") + copyShader, true
	default:
		return "", false
	}
}
