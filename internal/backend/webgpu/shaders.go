// Package webgpu implements the accelerator backend on WebGPU compute
// pipelines, via go-webgpu's zero-CGO bindings. WGSL has no f64, so this
// backend serves float32 models only.
package webgpu

// workgroupSize is the number of threads per workgroup.
const workgroupSize = 64

// Hard limits baked into the fitting shader's private arrays. Upload rejects
// models that exceed them.
const (
	maxLayerWidth = 128
	maxLayers     = 8
)

// fittingShader runs, one thread per atom, the fitting network forward pass
// and the manual backward pass, producing the atom energy (bias excluded) and
// the gradient of the energy with respect to the atom's environment row.
//
// meta layout (u32): dims[0..n_layers] widths, then per (type, layer) the
// weight offset, then per (type, layer) the bias offset, both into the flat
// f32 parameter arrays.
const fittingShader = `
@group(0) @binding(0) var<storage, read> env: array<f32>;
@group(0) @binding(1) var<storage, read> types: array<u32>;
@group(0) @binding(2) var<storage, read> weights: array<f32>;
@group(0) @binding(3) var<storage, read> biases: array<f32>;
@group(0) @binding(4) var<storage, read> meta: array<u32>;
@group(0) @binding(5) var<storage, read_write> energy: array<f32>;
@group(0) @binding(6) var<storage, read_write> net_deriv: array<f32>;

struct Params {
    natoms: u32,
    in_dim: u32,
    n_layers: u32,
    ntypes: u32,
}
@group(0) @binding(7) var<uniform> params: Params;

fn dim(l: u32) -> u32 {
    return meta[l];
}

fn woff(t: u32, l: u32) -> u32 {
    return meta[params.n_layers + 1u + t * params.n_layers + l];
}

fn boff(t: u32, l: u32) -> u32 {
    return meta[params.n_layers + 1u + (params.ntypes + t) * params.n_layers + l];
}

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let i = global_id.x;
    if (i >= params.natoms) {
        return;
    }
    let t = types[i];

    var act: array<array<f32, 128>, 8>;
    var cur: array<f32, 128>;
    var nxt: array<f32, 128>;

    for (var d = 0u; d < params.in_dim; d = d + 1u) {
        cur[d] = env[i * params.in_dim + d];
    }

    // Forward: tanh hidden layers, linear scalar head.
    for (var l = 0u; l < params.n_layers; l = l + 1u) {
        let inw = dim(l);
        let outw = dim(l + 1u);
        let wo = woff(t, l);
        let bo = boff(t, l);
        for (var o = 0u; o < outw; o = o + 1u) {
            var z = biases[bo + o];
            for (var d = 0u; d < inw; d = d + 1u) {
                z = z + weights[wo + o * inw + d] * cur[d];
            }
            if (l + 1u < params.n_layers) {
                let a = tanh(z);
                act[l][o] = a;
                nxt[o] = a;
            } else {
                energy[i] = z;
            }
        }
        for (var o = 0u; o < outw; o = o + 1u) {
            cur[o] = nxt[o];
        }
    }

    // Backward: dE/dz at the head is 1, so seed with the head weight row.
    let head = params.n_layers - 1u;
    let hw = dim(head);
    let hwo = woff(t, head);
    for (var d = 0u; d < hw; d = d + 1u) {
        cur[d] = weights[hwo + d];
    }

    for (var li = i32(head) - 1; li >= 0; li = li - 1) {
        let l = u32(li);
        let inw = dim(l);
        let outw = dim(l + 1u);
        let wo = woff(t, l);
        for (var o = 0u; o < outw; o = o + 1u) {
            let a = act[l][o];
            cur[o] = cur[o] * (1.0 - a * a);
        }
        for (var d = 0u; d < inw; d = d + 1u) {
            var g = 0.0;
            for (var o = 0u; o < outw; o = o + 1u) {
                g = g + cur[o] * weights[wo + o * inw + d];
            }
            nxt[d] = g;
        }
        for (var d = 0u; d < inw; d = d + 1u) {
            cur[d] = nxt[d];
        }
    }

    for (var d = 0u; d < params.in_dim; d = d + 1u) {
        net_deriv[i * params.in_dim + d] = cur[d];
    }
}
`

// pairForceShader contracts the network gradient with the analytic
// environment-matrix derivative, one thread per (atom, neighbor slot),
// producing dE/dx for every neighbor displacement.
const pairForceShader = `
@group(0) @binding(0) var<storage, read> net_deriv: array<f32>;
@group(0) @binding(1) var<storage, read> env_deriv: array<f32>;
@group(0) @binding(2) var<storage, read_write> pair_force: array<f32>;

struct Params {
    natoms: u32,
    nnei: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let slot = global_id.x;
    if (slot >= params.natoms * params.nnei) {
        return;
    }
    let i = slot / params.nnei;
    let in_dim = params.nnei * 4u;
    let kbase = (slot % params.nnei) * 4u;

    var f = vec3<f32>(0.0, 0.0, 0.0);
    for (var c = 0u; c < 4u; c = c + 1u) {
        let g = net_deriv[i * in_dim + kbase + c];
        let db = (slot * 4u + c) * 3u;
        f.x = f.x + g * env_deriv[db];
        f.y = f.y + g * env_deriv[db + 1u];
        f.z = f.z + g * env_deriv[db + 2u];
    }
    pair_force[slot * 3u] = f.x;
    pair_force[slot * 3u + 1u] = f.y;
    pair_force[slot * 3u + 2u] = f.z;
}
`
