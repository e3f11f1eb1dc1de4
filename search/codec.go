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

package search

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/poiesic/metasearch/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// encodeResponse serializes a response for the cache.
func encodeResponse(resp *core.SearchResponse) ([]byte, error) {
	return json.Marshal(resp)
}

// decodeResponse restores a cached response. The result count is
// recomputed so it always matches the result list.
func decodeResponse(data []byte) (*core.SearchResponse, error) {
	var resp *core.SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEntry, err)
	}
	if resp == nil || !resp.Success {
		return nil, ErrMalformedEntry
	}
	if resp.Results == nil {
		resp.Results = []core.SearchResult{}
	}
	resp.Count = len(resp.Results)
	return resp, nil
}
