/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package executor

import (
	"sync"

	"github.com/gomlx/customops/types/shapes"
	"github.com/gomlx/customops/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// BufferPool recycles tensor storage, keyed by dtype and number of elements.
// It is safe for concurrent use.
type BufferPool struct {
	pools sync.Map
}

// NewBufferPool returns an empty BufferPool.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// getPool for given dtype/length.
func (p *BufferPool) getPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := p.pools.Load(key)
	if !ok {
		poolInterface, _ = p.pools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return tensors.FromShape(shapes.Make(dtype, length))
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// Get returns a tensor with the given (fully known) shape. Its contents are undefined.
func (p *BufferPool) Get(shape shapes.Shape) *tensors.Tensor {
	length := shape.Size()
	t := p.getPool(shape.DType, length).Get().(*tensors.Tensor)
	return t.MustReshape(shape.Dimensions...)
}

// Put returns the storage of t to the pool.
// After this any references to t (or to views sharing its storage) should be dropped.
func (p *BufferPool) Put(t *tensors.Tensor) {
	if t == nil || t.Size() == 0 {
		return
	}
	p.getPool(t.DType(), t.Size()).Put(t.MustReshape(t.Size()))
}
