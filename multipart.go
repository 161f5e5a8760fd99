package langsmith

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strconv"
)

// blobFields are payload fields big enough to deserve their own multipart
// part. Extracting them lets the server stream large inputs and outputs
// to blob storage without parsing the main run object.
var blobFields = []string{"events", "inputs", "outputs"}

// encodeMultipartBatch renders ops as one multipart/form-data body.
//
// Part naming follows the ingest protocol:
//
//	post.<run_id>               main run object (minus blob fields)
//	post.<run_id>.inputs        extracted blob field, one per present field
//	attachment.<run_id>.<name>  binary attachment
//
// and the same for patch. Part order is canonical: operations in queue
// order; within an operation the main part, then blob fields in
// alphabetical order, then attachments sorted by name. Every part carries
// an explicit Content-Type and Content-Length.
func encodeMultipartBatch(ops []*op) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, o := range ops {
		prefix := fmt.Sprintf("%s.%s", o.kind, o.id)

		main := make(map[string]interface{}, len(o.payload))
		for k, v := range o.payload {
			main[k] = v
		}
		blobs := make(map[string][]byte, len(blobFields))
		for _, field := range blobFields {
			if v, ok := main[field]; ok {
				blobs[field] = safeMarshal(v)
				delete(main, field)
			}
		}

		if err := writeJSONPart(w, prefix, safeMarshal(main)); err != nil {
			return nil, "", err
		}

		// blobFields is already alphabetical
		for _, field := range blobFields {
			data, ok := blobs[field]
			if !ok {
				continue
			}
			if err := writeJSONPart(w, prefix+"."+field, data); err != nil {
				return nil, "", err
			}
		}

		names := make([]string, 0, len(o.attachments))
		for name := range o.attachments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			att := o.attachments[name]
			partName := fmt.Sprintf("attachment.%s.%s", o.id, name)
			if err := writePart(w, partName, att.MimeType, att.Data); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeJSONPart(w *multipart.Writer, name string, data []byte) error {
	return writePart(w, name, "application/json", data)
}

// writePart writes one form part with explicit type and length headers,
// which the ingest API uses for server-side size accounting.
func writePart(w *multipart.Writer, name, mimeType string, data []byte) error {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, name))
	header.Set("Content-Type", mimeType)
	header.Set("Content-Length", strconv.Itoa(len(data)))

	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}
