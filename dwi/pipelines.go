package dwi

import (
	"github.com/alexpron/mri-processing/pipeline"
)

// link is one port-to-port connection in a workflow declaration.
type link struct {
	src     pipeline.Node
	srcPort string
	dst     pipeline.Node
	dstPort string
}

// assemble registers nodes, exposes ports and wires connections, stopping at
// the first construction error.
func assemble(w *pipeline.Workflow, nodes []pipeline.Node, inputs, outputs []string, links []link) error {
	for _, n := range nodes {
		if err := w.AddNode(n); err != nil {
			return err
		}
	}
	for _, p := range inputs {
		if err := w.ExposeInput(p); err != nil {
			return err
		}
	}
	for _, p := range outputs {
		if err := w.ExposeOutput(p); err != nil {
			return err
		}
	}
	for _, l := range links {
		if err := w.Connect(l.src, l.srcPort, l.dst, l.dstPort); err != nil {
			return err
		}
	}
	return nil
}

// NewPreprocessingPipeline builds the bias correction and gross masking of a
// distortion corrected diffusion weighted volume.
func NewPreprocessingPipeline(cfg Config) (*pipeline.Workflow, error) {
	biascorrect, err := newBiasCorrectNode(cfg)
	if err != nil {
		return nil, err
	}
	mask, err := newBrainMaskNode(cfg)
	if err != nil {
		return nil, err
	}

	w := pipeline.NewWorkflow("preprocessing")
	err = assemble(w,
		[]pipeline.Node{biascorrect, mask},
		[]string{"diffusion_volume"},
		[]string{"corrected_diffusion_volume", "mask"},
		[]link{
			{w.InputNode(), "diffusion_volume", biascorrect, "in_file"},
			{biascorrect, "out_file", mask, "in_file"},
			{biascorrect, "out_file", w.OutputNode(), "corrected_diffusion_volume"},
			{mask, "out_file", w.OutputNode(), "mask"},
		})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewTensorPipeline builds the diffusion tensor estimation and FA
// computation.
func NewTensorPipeline(cfg Config) (*pipeline.Workflow, error) {
	tensor, err := newFitTensorNode(cfg)
	if err != nil {
		return nil, err
	}
	fa, err := newTensorMetricsNode(cfg)
	if err != nil {
		return nil, err
	}

	w := pipeline.NewWorkflow("tensor")
	err = assemble(w,
		[]pipeline.Node{tensor, fa},
		[]string{"diffusion_volume", "mask"},
		[]string{"tensor_coeff", "fa"},
		[]link{
			{w.InputNode(), "diffusion_volume", tensor, "in_file"},
			{w.InputNode(), "mask", tensor, "in_mask"},
			{tensor, "out_file", fa, "in_file"},
			{tensor, "out_file", w.OutputNode(), "tensor_coeff"},
			{fa, "out_fa", w.OutputNode(), "fa"},
		})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewSphericalDeconvolutionPipeline builds the impulse response estimation
// and derived multi-shell multi-tissue spherical deconvolution.
func NewSphericalDeconvolutionPipeline(cfg Config) (*pipeline.Workflow, error) {
	response, err := newResponseNode(cfg)
	if err != nil {
		return nil, err
	}
	fod, err := newFODNode(cfg)
	if err != nil {
		return nil, err
	}

	w := pipeline.NewWorkflow("msmt_csd")
	err = assemble(w,
		[]pipeline.Node{response, fod},
		[]string{"diffusion_volume", "mask", "mtt_file"},
		[]string{"wm_fod"},
		[]link{
			{w.InputNode(), "diffusion_volume", response, "in_file"},
			{w.InputNode(), "mask", response, "in_mask"},
			{w.InputNode(), "mtt_file", response, "mtt_file"},
			{response, "wm_file", fod, "wm_txt"},
			{response, "gm_file", fod, "gm_txt"},
			{response, "csf_file", fod, "csf_txt"},
			{w.InputNode(), "diffusion_volume", fod, "in_file"},
			{fod, "wm_odf", w.OutputNode(), "wm_fod"},
		})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewTractogramPipeline builds the whole-brain probabilistic anatomically
// constrained tractogram generation and SIFT filtering.
func NewTractogramPipeline(cfg Config) (*pipeline.Workflow, error) {
	tractography, err := newTractographyNode(cfg)
	if err != nil {
		return nil, err
	}
	sift, err := newSiftFilteringNode(cfg)
	if err != nil {
		return nil, err
	}

	w := pipeline.NewWorkflow("tractogram_pipeline")
	err = assemble(w,
		[]pipeline.Node{tractography, sift},
		[]string{"wm_fod", "mask", "act_file"},
		[]string{"tractogram"},
		[]link{
			{w.InputNode(), "wm_fod", tractography, "in_file"},
			{w.InputNode(), "mask", tractography, "seed_gmwmi"},
			{w.InputNode(), "act_file", tractography, "act_file"},
			{w.InputNode(), "wm_fod", sift, "wm_fod"},
			{tractography, "out_file", sift, "input_tracks"},
			{sift, "filtered_tracks", w.OutputNode(), "tractogram"},
		})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewRigidRegistrationPipeline builds the rigid transform estimation and its
// application to a volume.
func NewRigidRegistrationPipeline(cfg Config) (*pipeline.Workflow, error) {
	estimation, err := newRigidRegistrationNode(cfg)
	if err != nil {
		return nil, err
	}
	apply, err := newApplyTransformNode(cfg)
	if err != nil {
		return nil, err
	}

	w := pipeline.NewWorkflow("rigid_registration")
	err = assemble(w,
		[]pipeline.Node{estimation, apply},
		[]string{"image", "template", "in_file"},
		[]string{"out_file"},
		[]link{
			{w.InputNode(), "image", estimation, "image"},
			{w.InputNode(), "template", estimation, "template"},
			{estimation, "transform", apply, "transform"},
			{w.InputNode(), "in_file", apply, "in_file"},
			{apply, "out_file", w.OutputNode(), "out_file"},
		})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewCorePipeline assembles the mandatory steps of the diffusion pipeline
// (kept separate from the conversion front-end for the sake of modularity).
func NewCorePipeline(cfg Config) (*pipeline.Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	preprocessing, err := NewPreprocessingPipeline(cfg)
	if err != nil {
		return nil, err
	}
	tensor, err := NewTensorPipeline(cfg)
	if err != nil {
		return nil, err
	}
	tissueClassif, err := newTissueClassificationNode(cfg)
	if err != nil {
		return nil, err
	}
	registration, err := NewRigidRegistrationPipeline(cfg)
	if err != nil {
		return nil, err
	}
	csd, err := NewSphericalDeconvolutionPipeline(cfg)
	if err != nil {
		return nil, err
	}
	tractogram, err := NewTractogramPipeline(cfg)
	if err != nil {
		return nil, err
	}

	w := pipeline.NewWorkflow("core_diffusion_pipeline")
	err = assemble(w,
		[]pipeline.Node{preprocessing, tensor, tissueClassif, registration, csd, tractogram},
		[]string{"diffusion_volume", "t1_volume"},
		[]string{"corrected_diffusion_volume", "wm_fod", "tractogram"},
		[]link{
			{w.InputNode(), "diffusion_volume", preprocessing, "diffusion_volume"},
			{preprocessing, "corrected_diffusion_volume", tensor, "diffusion_volume"},
			{preprocessing, "mask", tensor, "mask"},
			{preprocessing, "corrected_diffusion_volume", csd, "diffusion_volume"},
			// FA drives the diffusion-to-T1 registration; the T1 volume is
			// the reference image.
			{tensor, "fa", registration, "image"},
			{w.InputNode(), "t1_volume", registration, "template"},
			{w.InputNode(), "t1_volume", tissueClassif, "in_file"},
			{tissueClassif, "out_file", registration, "in_file"},
			{registration, "out_file", csd, "mtt_file"},
			{preprocessing, "mask", csd, "mask"},
			{csd, "wm_fod", tractogram, "wm_fod"},
			{preprocessing, "mask", tractogram, "mask"},
			{registration, "out_file", tractogram, "act_file"},
			{tractogram, "tractogram", w.OutputNode(), "tractogram"},
			{csd, "wm_fod", w.OutputNode(), "wm_fod"},
			{preprocessing, "corrected_diffusion_volume", w.OutputNode(), "corrected_diffusion_volume"},
		})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewDiffusionPipeline builds the top-level pipeline: data conversion from
// .nii to .mif (embedding the diffusion bvals and bvecs) followed by the
// core pipeline.
func NewDiffusionPipeline(cfg Config) (*pipeline.Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	convert, err := newConvertNode(cfg)
	if err != nil {
		return nil, err
	}
	core, err := NewCorePipeline(cfg)
	if err != nil {
		return nil, err
	}

	w := pipeline.NewWorkflow("diffusion_pipeline")
	err = assemble(w,
		[]pipeline.Node{convert, core},
		[]string{"diffusion_volume", "bvals", "bvecs", "t1_volume"},
		[]string{"corrected_diffusion_volume", "wm_fod", "tractogram"},
		[]link{
			{w.InputNode(), "diffusion_volume", convert, "in_file"},
			{w.InputNode(), "bvals", convert, "bvals"},
			{w.InputNode(), "bvecs", convert, "bvecs"},
			{convert, "out_file", core, "diffusion_volume"},
			{w.InputNode(), "t1_volume", core, "t1_volume"},
			{core, "corrected_diffusion_volume", w.OutputNode(), "corrected_diffusion_volume"},
			{core, "wm_fod", w.OutputNode(), "wm_fod"},
			{core, "tractogram", w.OutputNode(), "tractogram"},
		})
	if err != nil {
		return nil, err
	}
	return w, nil
}
