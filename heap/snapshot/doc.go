// Package snapshot writes and reads heap images: a dump of a heap's live
// region that can be inspected offline.
//
// # Image Format
//
// An image is a fixed header, a layout name table and the region's record
// bytes compressed with brotli:
//
//	Offset  Size  Field
//	0x00    4     Magic "HKIM"
//	0x04    4     Version (1)
//	0x08    8     Region base address
//	0x10    8     Region capacity
//	0x18    8     Used bytes (cursor offset)
//	0x20    4     Layout count
//	0x24    ...   Layouts: id (4), name length (2), name
//	...     ...   Brotli stream of the used bytes
//
// Layout ids in record headers are only meaningful to the heap that wrote
// them, so the image carries their names. Read maps each name back to the
// reader's registry and fails with ErrUnresolvedLayout when it cannot.
//
// # Usage
//
//	var buf bytes.Buffer
//	if err := snapshot.Write(&buf, h); err != nil {
//	    return err
//	}
//	img, err := snapshot.Read(&buf, h.Layouts())
//	if err != nil {
//	    return err
//	}
//	for _, rec := range img.Records {
//	    fmt.Println(rec.Addr, rec.Size, rec.Layout)
//	}
package snapshot
