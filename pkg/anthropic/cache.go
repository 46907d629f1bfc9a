package anthropic

// BuildCachedSystemBlocks constructs a single system block with a cache
// breakpoint at the given TTL ("5m" or "1h"). Long, stable prompts such as
// the extraction instructions are sent this way so repeated calls hit the
// prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
