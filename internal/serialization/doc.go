// Package serialization publishes build artifacts to disk.
//
// Artifacts are written to a temporary file in the destination directory,
// flushed to stable storage and renamed over the destination. A reader of the
// destination path therefore sees either the previous file or the complete new
// one, never a partial write. The SHA-256 checksum of the written bytes is
// computed on the fly.
//
// Example usage:
//
//	res, err := serialization.Publish("model.onnx", func(w io.Writer) error {
//	    _, err := onnx.Encode(w, model)
//	    return err
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Size, serialization.FormatChecksum(res.Checksum))
package serialization
