// Package loader reads model weights stored in the SafeTensors format.
//
// It handles single-file checkpoints (model.safetensors) as well as sharded
// ones described by model.safetensors.index.json. Half precision weights (F16
// and BF16) are widened to float32 on load, since the exported graph is
// float32 throughout.
//
// Example:
//
//	weights, err := loader.LoadSafeTensors("model.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	w := weights["decode_head.classifier.weight"]
//
// Checkpoint keys are normalized by a WeightMapper so that checkpoints saved
// from wrapped modules (DataParallel "module." prefixes, bare encoders) resolve
// to the names the SegFormer graph expects.
package loader
