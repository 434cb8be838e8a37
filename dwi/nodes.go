package dwi

import (
	"strconv"
	"time"

	"github.com/alexpron/mri-processing/shell"
)

// toolSpec carries the per-node execution policy from the configuration
// into a shell.ToolSpec.
func (c Config) toolSpec(id, executable string, args ...shell.Arg) shell.ToolSpec {
	return shell.ToolSpec{
		ID:         id,
		Executable: executable,
		WorkDir:    c.WorkDir,
		Args:       args,
		Timeout:    time.Duration(c.NodeTimeoutSec) * time.Second,
		MaxRetries: c.MaxRetries,
		RetryDelay: time.Duration(c.RetryDelaySec) * time.Second,
	}
}

// newConvertNode wraps mrconvert: .nii to .mif conversion embedding the
// diffusion bvals and bvecs.
func newConvertNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("mrconvert", "mrconvert",
		shell.Literal("-fslgrad"), shell.Input("bvecs"), shell.Input("bvals"),
		shell.Input("in_file"), shell.Output("out_file", "dwi.mif"),
	))
}

// newBiasCorrectNode wraps dwibiascorrect for a more quantitative approach.
func newBiasCorrectNode(cfg Config) (*shell.Tool, error) {
	algorithm := "fsl"
	if cfg.UseANTS {
		algorithm = "ants"
	}
	return shell.NewTool(cfg.toolSpec("diffusionbiascorrect", "dwibiascorrect",
		shell.Literal(algorithm),
		shell.Input("in_file"), shell.Output("out_file", "dwi_biascorrected.mif"),
	))
}

// newBrainMaskNode wraps dwi2mask: gross brain mask from diffusion data.
func newBrainMaskNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("diffusion2mask", "dwi2mask",
		shell.Input("in_file"), shell.Output("out_file", "mask.mif"),
	))
}

// newFitTensorNode wraps dwi2tensor: tensor coefficients estimation.
func newFitTensorNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("diffusion2tensor", "dwi2tensor",
		shell.Literal("-mask"), shell.Input("in_mask"),
		shell.Input("in_file"), shell.Output("out_file", "tensor.mif"),
	))
}

// newTensorMetricsNode wraps tensor2metric: derived FA contrast.
func newTensorMetricsNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("tensor2fa", "tensor2metric",
		shell.Literal("-fa"), shell.Output("out_fa", "fa.mif"),
		shell.Input("in_file"),
	))
}

// newResponseNode wraps dwi2response: tissue response function estimation.
func newResponseNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("diffusion2response", "dwi2response",
		shell.Literal(cfg.ResponseAlgorithm),
		shell.Literal("-mask"), shell.Input("in_mask"),
		shell.Input("in_file"), shell.Input("mtt_file"),
		shell.Output("wm_file", "wm_response.txt"),
		shell.Output("gm_file", "gm_response.txt"),
		shell.Output("csf_file", "csf_response.txt"),
	))
}

// newFODNode wraps dwi2fod: multi-shell multi-tissue constrained spherical
// deconvolution.
func newFODNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("diffusion2fod", "dwi2fod",
		shell.Literal("msmt_csd"),
		shell.Input("in_file"),
		shell.Input("wm_txt"), shell.Output("wm_odf", "wm_fod.mif"),
		shell.Input("gm_txt"), shell.Output("gm_odf", "gm_fod.mif"),
		shell.Input("csf_txt"), shell.Output("csf_odf", "csf_fod.mif"),
	))
}

// newTissueClassificationNode wraps 5ttgen: five-tissue-type segmentation of
// the anatomical volume.
func newTissueClassificationNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("tissue_classification", "5ttgen",
		shell.Literal(cfg.TissueAlgorithm),
		shell.Input("in_file"), shell.Output("out_file", "5tt.mif"),
	))
}

// newTractographyNode wraps tckgen: whole-brain probabilistic anatomically
// constrained tractography. The brain mask is used to randomly draw seeds.
func newTractographyNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("tractography", "tckgen",
		shell.Literal("-select"), shell.Literal(strconv.Itoa(cfg.NTracks)),
		shell.Literal("-minlength"), shell.Literal(formatMM(cfg.MinLength)),
		shell.Literal("-maxlength"), shell.Literal(formatMM(cfg.MaxLength)),
		shell.Literal("-act"), shell.Input("act_file"),
		shell.Literal("-seed_gmwmi"), shell.Input("seed_gmwmi"),
		shell.Input("in_file"), shell.Output("out_file", "tractogram.tck"),
	))
}

// newSiftFilteringNode wraps tcksift: tractogram filtering.
func newSiftFilteringNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("sift_filtering", "tcksift",
		shell.Input("input_tracks"), shell.Input("wm_fod"),
		shell.Output("filtered_tracks", "filtered_tractogram.tck"),
	))
}

// newRigidRegistrationNode wraps mrregister: rigid transform estimation
// between an image and a reference image.
func newRigidRegistrationNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("rigid_transform_estimation", "mrregister",
		shell.Literal("-type"), shell.Literal("rigid"),
		shell.Literal("-rigid"), shell.Output("transform", "rigid_transform.txt"),
		shell.Input("image"), shell.Input("template"),
	))
}

// newApplyTransformNode wraps mrtransform. The inverse option is passed to
// take into account the reverse convention (see MRtrix doc).
func newApplyTransformNode(cfg Config) (*shell.Tool, error) {
	return shell.NewTool(cfg.toolSpec("apply_linear_transform", "mrtransform",
		shell.Literal("-linear"), shell.Input("transform"),
		shell.Literal("-inverse"),
		shell.Input("in_file"), shell.Output("out_file", "transformed.mif"),
	))
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
