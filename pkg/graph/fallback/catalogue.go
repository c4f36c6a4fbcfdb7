package fallback

import (
	"fmt"
	"maps"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

// DefaultCatalogue maps every operator kind the fallback graph understands
// to the number of outputs it produces.
var DefaultCatalogue = map[string]int{
	"Elemwise":                 1,
	"ElemwiseMultiType":        1,
	"Reduce":                   1,
	"TypeCvt":                  1,
	"MatrixInverse":            1,
	"MatrixMul":                1,
	"BatchedMatrixMul":         1,
	"Dot":                      1,
	"SVD":                      3,
	"Convolution":              1,
	"ConvolutionBackwardData":  1,
	"DeformableConv":           1,
	"GroupLocal":               1,
	"Pooling":                  1,
	"AdaptivePooling":          1,
	"ROIPooling":               2,
	"DeformablePSROIPooling":   2,
	"ConvBias":                 1,
	"BatchConvBias":            1,
	"BatchNorm":                6,
	"ROIAlign":                 2,
	"WarpPerspective":          1,
	"WarpAffine":               1,
	"Remap":                    1,
	"Resize":                   1,
	"IndexingOneHot":           1,
	"IndexingSetOneHot":        1,
	"Copy":                     1,
	"Argsort":                  2,
	"Argmax":                   1,
	"Argmin":                   1,
	"CondTake":                 2,
	"TopK":                     2,
	"NvOf":                     1,
	"GaussianRNG":              1,
	"UniformRNG":               1,
	"Linspace":                 1,
	"Eye":                      1,
	"GetVarShape":              1,
	"Concat":                   1,
	"Broadcast":                1,
	"Identity":                 1,
	"NMSKeep":                  1,
	"Dimshuffle":               1,
	"Reshape":                  1,
	"AddAxis":                  1,
	"RemoveAxis":               1,
	"Subtensor":                1,
	"SetSubtensor":             1,
	"IncrSubtensor":            1,
	"IndexingMultiAxisVec":     1,
	"IndexingSetMultiAxisVec":  1,
	"IndexingIncrMultiAxisVec": 1,
	"MeshIndexing":             1,
	"SetMeshIndexing":          1,
	"IncrMeshIndexing":         1,
	"BatchedMeshIndexing":      1,
	"BatchedSetMeshIndexing":   1,
	"BatchedIncrMeshIndexing":  1,
	"AssertEqual":              1,
	"CvtColor":                 1,
}

func (g *Graph) OpDef(kind string, params graph.Params) (graph.OpDef, error) {
	if _, ok := g.catalogue[kind]; !ok {
		return graph.OpDef{}, fmt.Errorf("operator kind %q is not in the catalogue", kind)
	}
	return graph.OpDef{Kind: kind, Params: maps.Clone(params)}, nil
}
