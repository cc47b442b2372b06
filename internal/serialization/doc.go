// Package serialization reads and writes SafeTensors files, the format used
// for model checkpoints and for pretrained backbone weights.
//
//	Format Structure:
//	  [8 bytes: header size N (uint64 LE)]
//	  [N bytes: JSON header, name -> {dtype, shape, data_offsets}, plus __metadata__]
//	  [tensor data: raw little-endian bytes, offsets relative to this section]
//
// Float32 tensors can be stored as F16 to halve checkpoint size. On read,
// F16, BF16 and F64 payloads are widened or narrowed to float32 and I64 to
// int32, so torchvision exports load without a conversion step.
//
// Example usage:
//
//	// Save
//	err := serialization.WriteFile("ckpt.safetensors", nn.StateDict(model),
//	    map[string]string{"step": "1000"}, serialization.WriteOptions{})
//
//	// Load
//	stateDict, metadata, err := serialization.ReadFile("ckpt.safetensors", tensor.CPU)
//	err = nn.LoadStateDict(model, stateDict, true)
package serialization
