// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tagtree

import (
	"github.com/taggedpdf/tagtree/logger"
)

// PDFInfo is the document's /Info dictionary, the one piece of document-level
// metadata the structure-tree reader's domain actually needs: a caller
// walking a StructTreeRoot often wants to know which document it came from.
type PDFInfo struct {
	Author       string
	Creator      string
	Producer     string
	CreationDate string
	ModDate      string
}

// InfoDict returns the raw /Info dictionary as a Value (may be Null).
func (r *Reader) InfoDict() Value {
	return r.Trailer().Key("Info")
}

// Info extracts the document's /Info dictionary fields.
func (r *Reader) Info() PDFInfo {
	logger.Debug("reading Info dictionary")
	info := r.InfoDict()
	return PDFInfo{
		Author:       info.Key("Author").Text(),
		Creator:      info.Key("Creator").Text(),
		Producer:     info.Key("Producer").Text(),
		CreationDate: info.Key("CreationDate").Text(),
		ModDate:      info.Key("ModDate").Text(),
	}
}
