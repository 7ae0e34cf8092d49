package engine

import "context"

var (
	_ Engine        = (*Composite)(nil)
	_ BatchEmbedder = (*Composite)(nil)
)

// Composite routes chat calls to one engine and embedding calls to another,
// so a hosted chat model can be paired with a different embedding service.
type Composite struct {
	chat  Engine
	embed Engine
}

// Compose returns an Engine that chats with chat and embeds with embed.
func Compose(chat, embed Engine) *Composite {
	return &Composite{chat: chat, embed: embed}
}

func (c *Composite) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	return c.chat.Chat(ctx, model, messages, jsonSchema)
}

func (c *Composite) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return c.embed.Embed(ctx, model, text)
}

// EmbedBatch uses the embedding engine's batch call when it has one.
func (c *Composite) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if be, ok := c.embed.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, model, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.embed.Embed(ctx, model, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// IsRunning reports whether both halves are reachable.
func (c *Composite) IsRunning(ctx context.Context) bool {
	return c.chat.IsRunning(ctx) && c.embed.IsRunning(ctx)
}

func (c *Composite) ListModels(ctx context.Context) ([]string, error) {
	return c.chat.ListModels(ctx)
}

func (c *Composite) HasModel(ctx context.Context, name string) bool {
	return c.chat.HasModel(ctx, name)
}

func (c *Composite) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	return c.chat.PullModel(ctx, name, onProgress)
}
