// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/poiesic/conductor/blob"
	"github.com/poiesic/conductor/core"
)

// MetaSourceKey records the blob key a document was read from.
const MetaSourceKey = "source_key"

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".java": true, ".rs": true, ".c": true, ".h": true,
	".cc": true, ".cpp": true, ".rb": true, ".sh": true, ".sql": true,
	".kt": true, ".swift": true, ".cs": true,
}

// ContentTypeForKey derives a content type from a blob key's extension.
func ContentTypeForKey(key string) core.ContentType {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case ".md", ".markdown":
		return core.ContentTypeMarkdown
	case ".csv":
		return core.ContentTypeTabular
	case ".chat", ".log":
		return core.ContentTypeConversation
	case ".issue":
		return core.ContentTypeIssue
	}
	if codeExtensions[ext] {
		return core.ContentTypeCode
	}
	return core.ContentTypeGeneric
}

// DocumentFromObject builds a source document from a stored object. The
// object key becomes the document id.
func DocumentFromObject(key string, data []byte) *core.SourceDocument {
	return &core.SourceDocument{
		ID:          key,
		ContentType: ContentTypeForKey(key),
		RawText:     string(data),
		Metadata:    map[string]string{MetaSourceKey: key},
	}
}

// Trigger ingests each object announced on notes until the channel closes or
// ctx is done. Per-object failures are logged and do not stop the loop.
func (p *Pipeline) Trigger(ctx context.Context, store blob.Store, notes <-chan blob.Notification) error {
	logger := p.logger.With("processor", "trigger")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case note, ok := <-notes:
			if !ok {
				return nil
			}
			data, err := store.Get(ctx, note.Key)
			if err != nil {
				if errors.Is(err, blob.ErrNotFound) {
					logger.Debug("object vanished before ingestion", "key", note.Key)
					continue
				}
				logger.Error("failed to read object", "key", note.Key, "err", err)
				continue
			}
			report, err := p.Ingest(ctx, []*core.SourceDocument{DocumentFromObject(note.Key, data)})
			if err != nil {
				return err
			}
			for _, f := range report.Failed {
				logger.Warn("object not fully ingested", "key", f.DocumentID, "err", f.Err)
			}
		}
	}
}
