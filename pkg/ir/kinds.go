package ir

import (
	"context"
	"fmt"
	"slices"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

// Kind is one entry of the closed operator-kind table.
type Kind struct {
	// Name is the serialized kind name the entry is dispatched by.
	Name string
	// Type is the tag given to loaded nodes.
	Type string
	// OpDef is the catalogue kind used by Compile; empty for kinds that are
	// not rebuilt through the catalogue.
	OpDef string

	load    func(n *OpNode, opr graph.OprHandle) error
	compile func(ctx context.Context, n *OpNode, target graph.Graph) error
}

// rngLegacyName is reported by old graphs for random-number operators.
const rngLegacyName = "RNGOpr<MegDNNOpr>"

var kinds = make(map[string]*Kind)

// The variant kinds get their functions in init; the functions refer back to
// the kinds.
var (
	readOnlyKind        = &Kind{}
	host2DeviceCopyKind = &Kind{Name: "Host2DeviceCopy", Type: "Host2DeviceCopy"}
	immutableTensorKind = &Kind{Name: "ImmutableTensor", Type: "ImmutableTensor"}
)

func register(k *Kind) {
	if _, exists := kinds[k.Name]; exists {
		panic(fmt.Sprintf("operator kind %q already registered", k.Name))
	}
	kinds[k.Name] = k
}

// LookupKind resolves a serialized kind name. Unknown names resolve to the
// generic kind, which replays the original operator by substitution.
func LookupKind(name string) *Kind {
	if name == rngLegacyName {
		name = "RNGOpr"
	}
	if k, ok := kinds[name]; ok {
		return k
	}
	return readOnlyKind
}

// Kinds lists the registered kind names.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func opKind(name, typ, opDef string, normalize ...normalizer) *Kind {
	return &Kind{
		Name:    name,
		Type:    typ,
		OpDef:   opDef,
		load:    loadWith(normalize...),
		compile: compileOpDef,
	}
}

func indexingKind(name string) *Kind {
	return &Kind{
		Name:    name,
		Type:    name,
		OpDef:   name,
		load:    loadIndexing,
		compile: compileOpDef,
	}
}

func init() {
	readOnlyKind.load, readOnlyKind.compile = loadReadOnly, compileReplay
	host2DeviceCopyKind.load, host2DeviceCopyKind.compile = loadHost2DeviceCopy, compileHost2DeviceCopy
	immutableTensorKind.load, immutableTensorKind.compile = loadImmutableTensor, compileImmutableTensor

	register(host2DeviceCopyKind)
	register(immutableTensorKind)

	for _, k := range []*Kind{
		opKind("Elemwise", "Elemwise", "Elemwise"),
		opKind("Reduce", "Reduce", "Reduce"),
		opKind("TypeCvt", "TypeCvt", "TypeCvt", captureDType),
		opKind("MatrixInverse", "MatrixInverse", "MatrixInverse"),
		opKind("MatrixMul", "MatrixMul", "MatrixMul"),
		opKind("BatchedMatrixMul", "BatchedMatmul", "BatchedMatrixMul"),
		opKind("Dot", "Dot", "Dot"),
		opKind("SVD", "SVD", "SVD"),
		opKind("ConvolutionForward", "Convolution", "Convolution"),
		opKind("ConvolutionBackwardData", "ConvTranspose", "ConvolutionBackwardData"),
		opKind("DeformableConvForward", "DeformableConv", "DeformableConv"),
		opKind("GroupLocalForward", "GroupLocal", "GroupLocal"),
		opKind("PoolingForward", "Pooling", "Pooling"),
		opKind("AdaptivePoolingForward", "AdaptivePooling", "AdaptivePooling"),
		opKind("ROIPoolingForward", "ROIPooling", "ROIPooling"),
		opKind("DeformablePSROIPoolingForward", "DeformablePSROIPooling", "DeformablePSROIPooling"),
		opKind("ConvBiasForward", "ConvBias", "ConvBias", captureDType),
		opKind("BatchConvBiasForward", "BatchConvBias", "BatchConvBias", captureDType),
		opKind("BatchNormForward", "BatchNorm", "BatchNorm"),
		opKind("ROIAlignForward", "ROIAlign", "ROIAlign"),
		opKind("WarpPerspectiveForward", "WarpPerspective", "WarpPerspective"),
		opKind("WarpAffineForward", "WarpAffine", "WarpAffine"),
		opKind("RemapForward", "Remap", "Remap"),
		opKind("ResizeForward", "Resize", "Resize"),
		opKind("IndexingOneHot", "IndexingOneHot", "IndexingOneHot"),
		opKind("IndexingSetOneHot", "IndexingSetOneHot", "IndexingSetOneHot"),
		opKind("Copy", "Copy", "Copy", captureCompNode),
		opKind("ArgsortForward", "Argsort", "Argsort"),
		opKind("Argmax", "Argmax", "Argmax"),
		opKind("Argmin", "Argmin", "Argmin"),
		opKind("CondTake", "CondTake", "CondTake"),
		opKind("TopK", "TopK", "TopK"),
		opKind("NvOf", "NvOf", "NvOf"),
		opKind("RNGOpr", "", "", classifyRNG),
		opKind("Linspace", "Linspace", "Linspace", captureCompNode),
		opKind("Eye", "Eye", "Eye", captureDType, captureCompNode),
		opKind("GetVarShape", "GetVarShape", "GetVarShape"),
		opKind("Concat", "Concat", "Concat", defaultCompNode),
		opKind("Broadcast", "Broadcast", "Broadcast"),
		opKind("Identity", "Identity", "Identity"),
		opKind("NMSKeep", "NMSKeep", "NMSKeep"),
		opKind("Dimshuffle", "Dimshuffle", "Dimshuffle", dropParam("ndim")),
		opKind("Reshape", "Reshape", "Reshape"),
		{
			Name:    "AxisAddRemove",
			Type:    "AxisAddRemove",
			load:    loadAxisAddRemove,
			compile: compileOpDef,
		},
		indexingKind("Subtensor"),
		indexingKind("SetSubtensor"),
		indexingKind("IncrSubtensor"),
		indexingKind("IndexingMultiAxisVec"),
		indexingKind("IndexingSetMultiAxisVec"),
		indexingKind("IndexingIncrMultiAxisVec"),
		indexingKind("MeshIndexing"),
		indexingKind("SetMeshIndexing"),
		indexingKind("IncrMeshIndexing"),
		indexingKind("BatchedMeshIndexing"),
		indexingKind("BatchedSetMeshIndexing"),
		indexingKind("BatchedIncrMeshIndexing"),
		opKind("AssertEqual", "AssertEqual", "AssertEqual"),
		opKind("ElemwiseMultiType", "ElemwiseMultiType", "ElemwiseMultiType", captureDType),
		opKind("CvtColorForward", "CvtColor", "CvtColor"),
	} {
		register(k)
	}
}
