// Package markup reads the ref/det detection markup emitted by deepseek
// backends: <|ref|>TEXT<|/ref|><|det|>[[x1,y1,x2,y2]]<|/det|>.
//
// Detection coordinates live in a fixed 0-999 space and are rescaled to pixel
// space with floor(coord / 999 * dimension). The package derives markdown text
// from the refs and renders a PNG overlay of the boxes on the source image.
package markup
